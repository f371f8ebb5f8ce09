package domain

// Recipient is one addressee resolved from a mail group.
type Recipient struct {
	UserID int64
	Name   string
	Email  string
}

// Emails returns the non-empty addresses of the recipients.
func Emails(recipients []Recipient) []string {
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r.Email != "" {
			out = append(out, r.Email)
		}
	}
	return out
}
