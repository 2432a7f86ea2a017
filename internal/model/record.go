package model

// Record is a user profile exactly as the remote endpoint serves it and as the
// cache store persists it.
type Record struct {
	ID            int    `json:"user_id" yaml:"user_id"`
	Name          string `json:"name" yaml:"name"`
	Age           int    `json:"age" yaml:"age"`
	Location      string `json:"loc" yaml:"loc"`
	About         string `json:"about_me" yaml:"about_me"`
	ProfilePicURL string `json:"profile_pic_url" yaml:"profile_pic_url"`
}

// RecordIDs returns the ids of records in order.
func RecordIDs(records []Record) []int {
	ids := make([]int, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
