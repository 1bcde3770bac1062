package logicaltime

import "go.mongodb.org/mongo-driver/bson"

// MarshalBSON implements bson.Marshaler, mirroring the JSON shape: a
// plain actor-hex → lamport document.
func (v *VersionVector) MarshalBSON() ([]byte, error) {
	return bson.Marshal(v.MarshalEntries())
}

// UnmarshalBSON implements bson.Unmarshaler.
func (v *VersionVector) UnmarshalBSON(data []byte) error {
	var m map[string]uint64
	if err := bson.Unmarshal(data, &m); err != nil {
		return err
	}
	return v.UnmarshalEntries(m)
}
