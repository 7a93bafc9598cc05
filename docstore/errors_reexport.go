package docstore

import dserrors "github.com/nonibytes/docsync/docstore/errors"

type (
	Error           = dserrors.Error
	ErrorKind       = dserrors.ErrorKind
	ValidationError = dserrors.ValidationError
)

const (
	ErrTypeMismatch       = dserrors.ErrTypeMismatch
	ErrRequiredMissing    = dserrors.ErrRequiredMissing
	ErrUniqueViolation    = dserrors.ErrUniqueViolation
	ErrEnumViolation      = dserrors.ErrEnumViolation
	ErrCustomValidation   = dserrors.ErrCustomValidation
	ErrDuplicateKey       = dserrors.ErrDuplicateKey
	ErrMissingIdentifier  = dserrors.ErrMissingIdentifier
	ErrNotFound           = dserrors.ErrNotFound
	ErrCollectionNotFound = dserrors.ErrCollectionNotFound
	ErrTransport          = dserrors.ErrTransport
	ErrSchemaMismatch     = dserrors.ErrSchemaMismatch
	ErrValidation         = dserrors.ErrValidation
	ErrSchema             = dserrors.ErrSchema
	ErrQuery              = dserrors.ErrQuery
	ErrInvalidState       = dserrors.ErrInvalidState
	ErrVersion            = dserrors.ErrVersion
	ErrStorage            = dserrors.ErrStorage
	ErrCrypto             = dserrors.ErrCrypto
)

// IsKind reports whether err, or any violation it aggregates, has kind.
func IsKind(err error, kind ErrorKind) bool {
	return dserrors.IsKind(err, kind)
}
