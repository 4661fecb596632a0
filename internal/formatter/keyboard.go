package formatter

import (
	"encoding/json"

	"github.com/go-telegram/bot/models"

	appmodels "github.com/mixelka/repa/pkg/models"
)

// BuildReportKeyboard creates an inline keyboard for a delivered report.
// The contact message button needs a stored record to look the message up.
func BuildReportKeyboard(recordID int64, reportIndex int, r appmodels.MatchReport) *models.InlineKeyboardMarkup {
	var row []models.InlineKeyboardButton

	if r.ListingURL != "" {
		row = append(row, models.InlineKeyboardButton{
			Text: "Open listing",
			URL:  r.ListingURL,
		})
	}

	if recordID > 0 && r.ContactMessage != nil && r.Verdict.Recommends() {
		row = append(row, models.InlineKeyboardButton{
			Text: "Contact message",
			CallbackData: EncodeCallback(appmodels.CallbackData{
				Action:      appmodels.CallbackContactMessage,
				RecordID:    recordID,
				ReportIndex: reportIndex,
			}),
		})
	}

	if len(row) == 0 {
		return nil
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{row},
	}
}

// BuildMonitorKeyboard creates the enable/disable toggle for mailbox monitoring
func BuildMonitorKeyboard(enabled bool) *models.InlineKeyboardMarkup {
	text := "Enable monitoring"
	if enabled {
		text = "Disable monitoring"
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{{
			{
				Text:         text,
				CallbackData: EncodeCallback(appmodels.CallbackData{Action: appmodels.CallbackToggleMonitor}),
			},
		}},
	}
}

// EncodeCallback encodes callback data to string
func EncodeCallback(data appmodels.CallbackData) string {
	b, _ := json.Marshal(data)
	return string(b)
}

// DecodeCallback decodes callback data from string
func DecodeCallback(data string) (appmodels.CallbackData, error) {
	var cb appmodels.CallbackData
	err := json.Unmarshal([]byte(data), &cb)
	return cb, err
}
