package saucenao

// Result is one reverse-image-search match above the similarity floor.
type Result struct {
	Header ResultHeader `json:"header"`
	Data   ResultData   `json:"data"`
}

// ResultHeader carries per-match metadata. Similarity arrives as a decimal
// string and is parsed when filtering.
type ResultHeader struct {
	Similarity string `json:"similarity"`
	Thumbnail  string `json:"thumbnail"`
	IndexID    int    `json:"index_id"`
	IndexName  string `json:"index_name"`
	Dupes      int    `json:"dupes"`
	Hidden     int    `json:"hidden"`
}

// ResultData is the index-specific payload; only the fields the relay uses
// are decoded.
type ResultData struct {
	ExtURLs []string `json:"ext_urls"`
	Title   string   `json:"title"`
	Author  string   `json:"author_name"`
	Source  string   `json:"source"`
}

type searchResponse struct {
	Header  responseHeader `json:"header"`
	Results []Result       `json:"results"`
}

type responseHeader struct {
	Status          int    `json:"status"`
	Message         string `json:"message"`
	ShortRemaining  int    `json:"short_remaining"`
	LongRemaining   int    `json:"long_remaining"`
	ShortLimit      string `json:"short_limit"`
	LongLimit       string `json:"long_limit"`
	ResultsReturned int    `json:"results_returned"`
}
