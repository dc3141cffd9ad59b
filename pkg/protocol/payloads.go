package protocol

// Request payloads for content operations. Fields are left untyped so that
// the data process can reject malformed options with specific messages.

// CompoundRequest is the payload of content-compound.
type CompoundRequest struct {
	Type    interface{} `json:"type" mapstructure:"type"`
	Options interface{} `json:"options,omitempty" mapstructure:"options"`
}

// QueryRequest is the payload of content-query.
type QueryRequest struct {
	Collection interface{} `json:"collection" mapstructure:"collection"`
	Type       interface{} `json:"type,omitempty" mapstructure:"type"`
	Options    interface{} `json:"options,omitempty" mapstructure:"options"`
}

// ResultSetRequest is the payload of content-result-set.
type ResultSetRequest struct {
	Collection interface{} `json:"collection" mapstructure:"collection"`
	Actions    interface{} `json:"actions" mapstructure:"actions"`
}

// Action is one step of a result set pipeline.
type Action struct {
	Type interface{} `json:"type" mapstructure:"type"`
	Args interface{} `json:"args" mapstructure:"args"`
}

// DocumentRequest is the payload of content-insert, content-update and
// content-remove. For remove, Document is the filter.
type DocumentRequest struct {
	Collection interface{} `json:"collection" mapstructure:"collection"`
	Document   interface{} `json:"document" mapstructure:"document"`
}

// UpdateStatus is the update manager snapshot sent to renderers.
type UpdateStatus struct {
	State          string  `json:"state"`
	Platform       string  `json:"platform"`
	Channel        *string `json:"channel"`
	ChannelChanged bool    `json:"channelChanged"`
	CurrentVersion string  `json:"currentVersion"`
	ReleaseNotes   *string `json:"releaseNotes"`
	UpdateVersion  *string `json:"updateVersion"`
	ErrorMessage   *string `json:"errorMessage"`
	Timestamp      int64   `json:"timestamp"`
}

// UpdateCheckResult answers app-update-check. ReleasesURL is set when
// automatic updates are unsupported and the user should be pointed at the
// releases page instead.
type UpdateCheckResult struct {
	ReleasesURL string `json:"releasesUrl,omitempty"`
}
