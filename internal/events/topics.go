package events

// Topic constants for domain events.
const (
	TopicBillCommitted     = "bill.committed"
	TopicBillArchiveFailed = "bill.archive_failed"
	TopicEmployeeLoggedIn  = "employee.logged_in"
)

// DefaultTopics returns the canonical list of topics.
func DefaultTopics() []string {
	return []string{
		TopicBillCommitted,
		TopicBillArchiveFailed,
		TopicEmployeeLoggedIn,
	}
}
