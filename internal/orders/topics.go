package orders

const (
	TopicNotifications = "marketplace.notifications"
	TopicEmail         = "marketplace.email"
)

// Partition key = recipient id, so one user's events stay ordered.
func PartitionKey(userID string) []byte { return []byte(userID) }
