package openbanking

import "context"

// ClientInterface defines the operations the consent flow needs from the
// open-banking provider. Implemented by Client; mocked in tests.
type ClientInterface interface {
	ListInstitutions(ctx context.Context) ([]Institution, error)
	CreateRequisition(ctx context.Context, params CreateRequisitionParams) (*Requisition, error)
	GetRequisition(ctx context.Context, ref string) (*Requisition, error)
	DeleteRequisition(ctx context.Context, ref string) error
}
