package hydrus

import "io"

// Permission is one entry of the access key's basic permission set.
type Permission int

const (
	PermissionURLImportEdit Permission = iota
	PermissionFilesImportDelete
	PermissionTagsEdit
	PermissionFilesSearchFetch
	PermissionPages
	PermissionCookiesHeaders
	PermissionDatabase
	PermissionNotesEdit
	PermissionRelationshipsEdit
	PermissionRatingsEdit
	PermissionPopups
)

// ImportStatus is the store's verdict on one imported file.
type ImportStatus int

const (
	ImportStatusSuccess           ImportStatus = 1
	ImportStatusAlreadyInDatabase ImportStatus = 2
	ImportStatusPreviouslyDeleted ImportStatus = 3
	ImportStatusFailed            ImportStatus = 4
	ImportStatusVetoed            ImportStatus = 7
)

// String returns a human-readable status name for confirmation replies.
func (s ImportStatus) String() string {
	switch s {
	case ImportStatusSuccess:
		return "imported"
	case ImportStatusAlreadyInDatabase:
		return "already in database"
	case ImportStatusPreviouslyDeleted:
		return "previously deleted"
	case ImportStatusFailed:
		return "failed"
	case ImportStatusVetoed:
		return "vetoed"
	default:
		return "unknown"
	}
}

// ImportResult is the outcome of importing one file or URL.
type ImportResult struct {
	Status ImportStatus `json:"status"`
	Hash   string       `json:"hash"`
	Note   string       `json:"note"`
}

// ImportInput bundles one composite import request: an optional raw payload
// plus URLs to import, with tags and source URLs attached to everything.
type ImportInput struct {
	Payload []byte
	URLs    []string
	Tags    []string
}

// FetchedFile is a stored artifact streamed back from the store, with the
// transport headers the delivery pipeline needs. Body must be closed by the
// caller; DeclaredSize is zero when the store sent no Content-Length.
type FetchedFile struct {
	Body         io.ReadCloser
	Mime         string
	DeclaredSize int64
}

// Wire shapes, decoded once at this boundary.

type verifyAccessKeyResponse struct {
	BasicPermissions []int  `json:"basic_permissions"`
	HumanDescription string `json:"human_description"`
}

type addFileResponse struct {
	Status int    `json:"status"`
	Hash   string `json:"hash"`
	Note   string `json:"note"`
}

type getServiceResponse struct {
	Service struct {
		Name       string `json:"name"`
		ServiceKey string `json:"service_key"`
	} `json:"service"`
}

type getPagesResponse struct {
	Pages page `json:"pages"`
}

type page struct {
	Name    string `json:"name"`
	PageKey string `json:"page_key"`
	Pages   []page `json:"pages"`
}

type urlFilesResponse struct {
	URLFileStatuses []struct {
		Status int    `json:"status"`
		Hash   string `json:"hash"`
		Note   string `json:"note"`
	} `json:"url_file_statuses"`
}

type cleanTagsResponse struct {
	Tags []string `json:"tags"`
}

type addURLRequest struct {
	URL                          string              `json:"url"`
	DestinationPageName          string              `json:"destination_page_name,omitempty"`
	ServiceKeysToAdditionalTags  map[string][]string `json:"service_keys_to_additional_tags,omitempty"`
}

type addTagsRequest struct {
	Hashes            []string            `json:"hashes"`
	ServiceKeysToTags map[string][]string `json:"service_keys_to_tags"`
}

type associateURLRequest struct {
	Hashes    []string `json:"hashes"`
	URLsToAdd []string `json:"urls_to_add"`
}

type addFilesToPageRequest struct {
	PageKey string   `json:"page_key"`
	Hashes  []string `json:"hashes"`
}
