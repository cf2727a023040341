// Package models contains the project entity types exchanged with the server.
package models

import (
	"strings"
	"time"
)

// Provider identifies where a linked file's content comes from.
type Provider string

const (
	ProviderURL               Provider = "url"
	ProviderProjectFile       Provider = "project_file"
	ProviderProjectOutputFile Provider = "project_output_file"
	ProviderMendeley          Provider = "mendeley"
	ProviderZotero            Provider = "zotero"
)

// IsReferenceProvider reports whether the provider is a bibliography
// reference manager whose imports feed the reference index.
func (p Provider) IsReferenceProvider() bool {
	return p == ProviderMendeley || p == ProviderZotero
}

// LinkedFileData describes the external source of an imported file.
type LinkedFileData struct {
	Provider             Provider `json:"provider"`
	URL                  string   `json:"url,omitempty"`
	SourceProjectID      string   `json:"source_project_id,omitempty"`
	SourceEntityPath     string   `json:"source_entity_path,omitempty"`
	SourceOutputFilePath string   `json:"source_output_file_path,omitempty"`
	V1SourceDocID        string   `json:"v1_source_doc_id,omitempty"`
	ImporterID           string   `json:"importer_id,omitempty"`
}

// File is a binary file in a project, possibly linked to an external source.
type File struct {
	ID             string          `json:"_id"`
	Name           string          `json:"name"`
	LinkedFileData *LinkedFileData `json:"linkedFileData,omitempty"`
	Created        time.Time       `json:"created,omitempty"`
	Hash           string          `json:"hash,omitempty"`
}

// IsLinked reports whether the file was imported from an external source.
func (f *File) IsLinked() bool {
	return f.LinkedFileData != nil
}

// IsBibliography reports whether the file name has a .bib suffix.
func (f *File) IsBibliography() bool {
	return strings.HasSuffix(f.Name, ".bib")
}

// Doc is an editable text document.
type Doc struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// Folder is a directory node in the server's tree representation.
type Folder struct {
	ID       string    `json:"_id"`
	Name     string    `json:"name"`
	Folders  []*Folder `json:"folders,omitempty"`
	Docs     []*Doc    `json:"docs,omitempty"`
	FileRefs []*File   `json:"fileRefs,omitempty"`
}

// EntityKind is the type of a tree entity.
type EntityKind string

const (
	KindFolder EntityKind = "folder"
	KindDoc    EntityKind = "doc"
	KindFile   EntityKind = "file"
)
