package models

type QueryPostRequest struct {
	// Text of the query.
	Text string `json:"text"`

	// FilterWords are removed from the keywords extracted from the text before
	// searching.
	FilterWords []string `json:"filterWords,omitempty"`
}

type QueryPostResponse struct {
	Query   string   `json:"query"`
	Result  string   `json:"result"`
	Keyword string   `json:"keyword,omitempty"`
	Sources []Source `json:"sources,omitempty"`
}

type Source struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	FileName string `json:"fileName"`
}
