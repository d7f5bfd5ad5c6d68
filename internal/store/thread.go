package store

// AssistantAuthor is the author recorded on messages produced by the model.
const AssistantAuthor = "assistant"

type Message struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

type Thread struct {
	ID            string    `json:"id"`
	DoctorName    string    `json:"doctor_name"`
	UserID        string    `json:"user_id"`
	Content       string    `json:"content"`
	Messages      []Message `json:"messages"`
	UploadedFiles []string  `json:"uploaded_files"`
}

// Clone returns a deep copy. Nil slices come back empty so the JSON shape is
// always a list.
func (t Thread) Clone() Thread {
	out := t
	out.Messages = append(make([]Message, 0, len(t.Messages)), t.Messages...)
	out.UploadedFiles = append(make([]string, 0, len(t.UploadedFiles)), t.UploadedFiles...)
	return out
}
