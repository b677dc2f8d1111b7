package outbox

// Event is the domain event envelope written to the outbox table inside
// the same transaction as the reservation mutation it describes. The Kafka
// topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
