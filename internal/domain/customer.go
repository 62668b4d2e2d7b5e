package domain

// CustomerProfile is the subset of the external customer store the
// orchestrator cares about. Looked up by phone number before an
// outbound call and attached to the session as context.
type CustomerProfile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Company     string `json:"company,omitempty"`
	Notes       string `json:"notes,omitempty"`
	DoNotCall   bool   `json:"do_not_call"`
}
