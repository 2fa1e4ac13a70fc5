package models

type ContextPostRequest struct {
	Text string `json:"text"`
}

type ContextPostResponse struct {
	Results []ContextDocument `json:"results"`
}

type ContextDocument struct {
	Text     string            `json:"text"`
	Distance float64           `json:"distance"`
	Link     string            `json:"link"`
	Title    string            `json:"title"`
	Metadata map[string]string `json:"metadata"`
}
