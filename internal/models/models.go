package models

import "time"

// RootID is the id callers use for the implicit root folder. It is never stored.
const RootID = "root"

// RootName is the display name of the implicit root folder.
const RootName = "Root"

// Actor is the authenticated identity an operation is performed for.
// Admin is a capability supplied by the caller and is never persisted.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Admin bool   `json:"-"`
}

// Folder is a node of the folder tree. A nil ParentID means the folder is a
// child of the implicit root.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parent_id"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy Actor     `json:"created_by"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy Actor     `json:"updated_by"`
}

// FileRecord is the metadata of a stored file. ID is also the blob id.
type FileRecord struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	FolderID     *string    `json:"folder_id"`
	MimeType     string     `json:"mime_type"`
	Size         int64      `json:"size"`
	UploadedAt   time.Time  `json:"uploaded_at"`
	UploadedBy   Actor      `json:"uploaded_by"`
	LastAccessAt *time.Time `json:"last_access_at"`
	LastAccessBy *Actor     `json:"last_access_by"`
	Version      int        `json:"version"`
	Tags         []string   `json:"tags"`
	Notes        string     `json:"notes"`
}

// Owner returns the email of the uploader.
func (f *FileRecord) Owner() string {
	return f.UploadedBy.Email
}

// Action is the kind of operation an audit event records.
type Action string

const (
	ActionCreateFolder Action = "create_folder"
	ActionUpload       Action = "upload"
	ActionDownload     Action = "download"
	ActionDelete       Action = "delete"
)

// TargetType tells whether an audit event is about a file or a folder.
type TargetType string

const (
	TargetFile   TargetType = "file"
	TargetFolder TargetType = "folder"
)

// Target weakly references the file or folder an event is about.
type Target struct {
	Type TargetType `json:"type"`
	ID   string     `json:"id"`
	Name string     `json:"name"`
}

// AuditEvent is one append-only entry of the audit trail. Seq is assigned
// by the store and orders events recorded within the same instant.
type AuditEvent struct {
	Seq          int64     `json:"seq"`
	TS           time.Time `json:"ts"`
	Actor        Actor     `json:"actor"`
	Action       Action    `json:"action"`
	Target       Target    `json:"target"`
	FromFolderID *string   `json:"from_folder_id"`
	ToFolderID   *string   `json:"to_folder_id"`
}

// Crumb is one step of a breadcrumb path.
type Crumb struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Children is the content of one folder.
type Children struct {
	Folders []*Folder     `json:"folders"`
	Files   []*FileRecord `json:"files"`
}

// Properties is a file record together with its most recent audit events.
type Properties struct {
	File   *FileRecord   `json:"file"`
	Events []*AuditEvent `json:"events"`
}

// ChunkData holds one chunk of a blob while it is being written.
type ChunkData struct {
	Data       []byte
	OrderIndex int
	Hash       string
	Size       int64
}
