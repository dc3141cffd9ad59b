// Package protocol defines the messages exchanged across every process
// boundary: renderer to coordinator and coordinator to data process.
package protocol

// Command discriminates the three message shapes.
type Command string

const (
	CmdRequest  Command = "REQUEST"
	CmdResponse Command = "RESPONSE"
	CmdAlert    Command = "ALERT"
)

// Request types handled by the coordinator's update manager.
const (
	AppUpdateStatus        = "app-update-status"
	AppUpdateCheck         = "app-update-check"
	AppUpdateInstall       = "app-update-install"
	AppUpdateChannelSelect = "app-update-channel-select"
)

// Request types for database lifecycle operations.
const (
	DatabaseSelect = "database-select"
	DatabaseUnload = "database-unload"
	DatabaseLoad   = "database-load"
	DatabaseSave   = "database-save"
	DatabaseStatus = "database-status"
)

// Request types for content operations.
const (
	ContentCompound  = "content-compound"
	ContentQuery     = "content-query"
	ContentResultSet = "content-result-set"
	ContentInsert    = "content-insert"
	ContentUpdate    = "content-update"
	ContentRemove    = "content-remove"
)

// Alert types.
const (
	AlertAppUpdateStatus = "alert-app-update-status"
	AlertAppUpdateError  = "alert-app-update-error"

	AlertDBStatus     = "alert-db-status"
	AlertDBStatusText = "alert-db-status-text"
	AlertDBError      = "alert-db-error"

	AlertContentChange   = "alert-content-change"
	AlertContentWarnings = "alert-content-warnings"
)

// IsAppRequest reports whether t is an application update request.
func IsAppRequest(t string) bool {
	switch t {
	case AppUpdateStatus, AppUpdateCheck, AppUpdateInstall, AppUpdateChannelSelect:
		return true
	}
	return false
}

// IsDatabaseRequest reports whether t is a lifecycle request.
func IsDatabaseRequest(t string) bool {
	switch t {
	case DatabaseSelect, DatabaseUnload, DatabaseLoad, DatabaseSave, DatabaseStatus:
		return true
	}
	return false
}

// IsContentRequest reports whether t is a content request. Responses to
// content requests do not carry a status snapshot.
func IsContentRequest(t string) bool {
	switch t {
	case ContentCompound, ContentQuery, ContentResultSet, ContentInsert, ContentUpdate, ContentRemove:
		return true
	}
	return false
}

// defaultMessages are the user-facing fallbacks for failed requests.
var defaultMessages = map[string]string{
	AppUpdateStatus:        "Failed to get updater status.",
	AppUpdateCheck:         "Failed to check for updates.",
	AppUpdateInstall:       "Failed to install a downloaded update.",
	AppUpdateChannelSelect: "Failed to select an update channel.",

	DatabaseSelect: "An error occurred while selecting the project directory.",
	DatabaseUnload: "An error occurred while unloading the database.",
	DatabaseLoad:   "An error occurred while loading the database.",
	DatabaseSave:   "An error occurred while saving the database.",
	DatabaseStatus: "An error occurred while sending the database status.",

	ContentCompound:  "An error occurred while performing a compound operation on the database.",
	ContentQuery:     "An error occurred while querying the database.",
	ContentResultSet: "An error occurred while performing result set actions on the database.",
	ContentInsert:    "An error occurred while inserting records into the database.",
	ContentUpdate:    "An error occurred while updating records in the database.",
	ContentRemove:    "An error occurred while removing records from the database.",
}

// DefaultMessage returns the user-facing failure message for a request type.
func DefaultMessage(requestType string) string {
	if msg, ok := defaultMessages[requestType]; ok {
		return msg
	}
	return "An error occurred."
}
