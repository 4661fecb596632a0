package models

// CallbackAction type of callback action
type CallbackAction string

const (
	CallbackContactMessage CallbackAction = "cm"
	CallbackToggleMonitor  CallbackAction = "tm"
)

// CallbackData structure for inline button callback
type CallbackData struct {
	Action      CallbackAction `json:"a"`
	RecordID    int64          `json:"r,omitempty"`
	ReportIndex int            `json:"i,omitempty"` // Index into the record's reports
}
