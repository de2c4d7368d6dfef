/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package ikv

// Event is the closed set of write operations a log message may carry. Each
// concrete type below is handled by exactly one case in Processor.Apply.
type Event interface {
	isEvent()
}

// UpsertDocumentFields writes or overwrites every field in Document.
type UpsertDocumentFields struct {
	Document Document
}

// DeleteDocumentFields removes the named fields from the document identified
// by Document's primary key field.
type DeleteDocumentFields struct {
	Document   Document
	FieldNames []string
}

// DeleteDocument removes every field of the document identified by
// Document's primary key field.
type DeleteDocument struct {
	Document Document
}

// DropFields removes fields from the schema entirely, across every document,
// or truncates all documents outright. FieldNames and FieldNamePrefixes
// select which fields are soft-deleted; when DropAll is set the other two
// are ignored and every shard is truncated instead.
type DropFields struct {
	FieldNames        []string
	FieldNamePrefixes []string
	DropAll           bool
}

func (UpsertDocumentFields) isEvent() {}
func (DeleteDocumentFields) isEvent() {}
func (DeleteDocument) isEvent()       {}
func (DropFields) isEvent()           {}
