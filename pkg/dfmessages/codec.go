package dfmessages

import jsoniter "github.com/json-iterator/go"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalTriggerRecord serialises a TriggerRecord for transport to the
// DataWriter or a monitoring consumer. Round-tripping through Marshal/
// UnmarshalTriggerRecord must yield an equal TriggerRecord (spec.md §8).
func MarshalTriggerRecord(tr TriggerRecord) ([]byte, error) {
	return jsonAPI.Marshal(tr)
}

// UnmarshalTriggerRecord is the inverse of MarshalTriggerRecord.
func UnmarshalTriggerRecord(b []byte) (TriggerRecord, error) {
	var tr TriggerRecord
	err := jsonAPI.Unmarshal(b, &tr)
	return tr, err
}

// MarshalTimeSlice serialises a TimeSlice for the DataWriter.
func MarshalTimeSlice(ts TimeSlice) ([]byte, error) {
	return jsonAPI.Marshal(ts)
}

// UnmarshalTimeSlice is the inverse of MarshalTimeSlice.
func UnmarshalTimeSlice(b []byte) (TimeSlice, error) {
	var ts TimeSlice
	err := jsonAPI.Unmarshal(b, &ts)
	return ts, err
}
