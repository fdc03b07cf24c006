package logging

import "log/slog"

// Common field names for consistent logging across the bridge.
const (
	FieldService = "service"
	FieldConnID  = "conn_id"
	FieldError   = "error"
	FieldKind    = "kind"
	FieldRepo    = "repo"
	FieldSeq     = "seq"
	FieldPath    = "path"
	FieldCID     = "cid"
	FieldSubject = "subject"
	FieldAlias   = "alias"
	FieldReason  = "reason"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Kind returns a slog attribute for an event kind ("Stream.Event").
func Kind(kind string) slog.Attr {
	return slog.String(FieldKind, kind)
}

// Repo returns a slog attribute for a repository DID.
func Repo(did string) slog.Attr {
	return slog.String(FieldRepo, did)
}

// Seq returns a slog attribute for a commit sequence number.
func Seq(seq int64) slog.Attr {
	return slog.Int64(FieldSeq, seq)
}

// Path returns a slog attribute for a repository record path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// CID returns a slog attribute for a content identifier.
func CID(cid string) slog.Attr {
	return slog.String(FieldCID, cid)
}

// Subject returns a slog attribute for a messaging subject.
func Subject(subject string) slog.Attr {
	return slog.String(FieldSubject, subject)
}

// Alias returns a slog attribute for an index alias.
func Alias(alias string) slog.Attr {
	return slog.String(FieldAlias, alias)
}

// Reason returns a slog attribute for a drop or retry reason.
func Reason(reason string) slog.Attr {
	return slog.String(FieldReason, reason)
}
