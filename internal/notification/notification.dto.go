package notification

import "fmt"

type RegisterDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (r *RegisterDeviceRequest) Validate() error {
	if r.Token == "" {
		return fmt.Errorf("token is required")
	}
	switch r.Platform {
	case "ios", "android", "web":
		return nil
	case "":
		r.Platform = "android"
		return nil
	}
	return fmt.Errorf("platform must be one of ios, android, web")
}

// StreakMilestoneMessage renders the push for a streak that just hit days.
func StreakMilestoneMessage(days int) (title, body string) {
	return fmt.Sprintf("%d-day streak!", days),
		fmt.Sprintf("You've studied %d days in a row. Keep it going tomorrow!", days)
}
