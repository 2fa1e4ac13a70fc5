package models

// DocumentsPostRequest adds a web page to the vector store without a query.
type DocumentsPostRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type DocumentsPostResponse struct {
	Chunks int `json:"chunks"`
}
