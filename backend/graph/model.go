package graph

import "github.com/joaooservit/oserv-cloud-storage/backend"

type driveItem struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Size   int64     `json:"size"`
	Folder *struct{} `json:"folder,omitempty"`
	File   *struct{} `json:"file,omitempty"`
}

func (d driveItem) node() backend.RemoteNode {
	return backend.RemoteNode{
		ID:          d.ID,
		Name:        d.Name,
		IsContainer: d.Folder != nil,
		Size:        d.Size,
	}
}

type childrenPage struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

type createFolderRequest struct {
	Name     string   `json:"name"`
	Folder   struct{} `json:"folder"`
	Conflict string   `json:"@microsoft.graph.conflictBehavior"`
}

type uploadSessionRequest struct {
	Item struct {
		Conflict string `json:"@microsoft.graph.conflictBehavior"`
	} `json:"item"`
}

type uploadSessionResponse struct {
	UploadURL          string   `json:"uploadUrl"`
	NextExpectedRanges []string `json:"nextExpectedRanges"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
