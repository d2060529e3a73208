package model

// PartitionKeyAttr is the sole attribute key a Sink looks for on
// AttributedData; any other key is ignored.
const PartitionKeyAttr = "partition_key"

// AttributedData pairs a serialized row with the attribute map a Sink
// consumes to route it. The map carries at most one entry in practice
// (the partition key); a Sink must not assume more will ever be present.
type AttributedData struct {
	Bytes      []byte
	Attributes map[string]string
}

// WithPartitionKey returns an AttributedData tagged with a partition key.
func WithPartitionKey(b []byte, key string) AttributedData {
	return AttributedData{
		Bytes:      b,
		Attributes: map[string]string{PartitionKeyAttr: key},
	}
}

// PartitionKey returns the partition key attribute, if present.
func (a AttributedData) PartitionKey() (string, bool) {
	k, ok := a.Attributes[PartitionKeyAttr]
	return k, ok
}
