package errors

// Code is the coarse error category. It decides how an error is logged and
// which HTTP status it is answered with.
type Code string

const (
	ErrBadRequest      Code = "bad-request"
	ErrCommunication   Code = "communication"
	ErrFatal           Code = "fatal"
	ErrForbidden       Code = "forbidden"
	ErrInternal        Code = "internal"
	ErrNotFound        Code = "not-found"
	ErrTooManyRequests Code = "too-many-requests"
	ErrUnauthorized    Code = "unauthorized"
	ErrUnexpected      Code = "unexpected"
)

// Kind further specifies an error within its Code.
type Kind string

const (
	// KindCredentialDenied is used when a presented credential is not authorized
	// for the targeted event.
	KindCredentialDenied Kind = "credential-denied"
	// KindDB is used for failed database operations.
	KindDB         Kind = "db"
	KindDecodeJSON Kind = "decode-json"
	// KindDuplicateEventName is used when an event list contains the same name
	// more than once.
	KindDuplicateEventName Kind = "duplicate-event-name"
	KindEncodeJSON         Kind = "encode-json"
	// KindInvalidConfig is used when the loaded configuration is unusable.
	KindInvalidConfig Kind = "invalid-config"
	// KindInvalidStatus is used when status text matches none of the known
	// status tags.
	KindInvalidStatus Kind = "invalid-status"
	// KindMissingCredential is used when a request carries no bearer token.
	KindMissingCredential Kind = "missing-credential"
	// KindMissingSecret is used when a required secret is absent at startup.
	KindMissingSecret Kind = "missing-secret"
	KindParseBaseFile Kind = "parse-base-file"
	// KindRateLimited is used when a client exceeded the request quota of a
	// route.
	KindRateLimited      Kind = "rate-limited"
	KindReadBaseFile     Kind = "read-base-file"
	KindResourceNotFound Kind = "resource-not-found"
	// KindSnapshotMissing is used when no snapshot has been written yet.
	KindSnapshotMissing Kind = "snapshot-missing"
	KindUnexpected      Kind = "unexpected"
	// KindWriteSnapshot is used when the snapshot could not be written.
	KindWriteSnapshot Kind = "write-snapshot"
)
