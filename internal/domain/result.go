package domain

type ConnectStatus string

const (
	ConnectOK    ConnectStatus = "OK"
	ConnectError ConnectStatus = "ERROR"
)

type ServiceResult struct {
	Connect         ConnectStatus `json:"connect"`
	Status          int           `json:"status"`
	Content         string        `json:"content"`
	KeywordsMatched []string      `json:"keywords_matched,omitempty"`
	Error           string        `json:"error,omitempty"`
}
