package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrAlreadyTransitioned: otro trigger ya movió el pickup; el caller hace no-op.
	ErrAlreadyTransitioned = errors.New("pickup already transitioned")
	ErrPickupFull          = errors.New("pickup is full")
	ErrPickupInProgress    = errors.New("pickup is past the fill stage")
	ErrAlreadyQueued       = errors.New("player already queued")
	ErrNotCaptainTurn      = errors.New("not this captain's turn")
	ErrPlayerUnavailable   = errors.New("player not available to pick")
	// ErrStageAborted: el stage volvió a fill (alguien salió), no hay que despachar.
	ErrStageAborted = errors.New("stage aborted")
	ErrStageTimeout = errors.New("stage timed out")
)

// StoreFailure: una transacción no pudo commitear.
type StoreFailure struct {
	Op  string
	Err error
}

func (e *StoreFailure) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreFailure) Unwrap() error { return e.Err }

// CollaboratorFailure: un stage externo (afk check, picking, generador) falló.
type CollaboratorFailure struct {
	Stage string
	Err   error
}

func (e *CollaboratorFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}
func (e *CollaboratorFailure) Unwrap() error { return e.Err }

// DeliveryFailure: no se pudo mandar un anuncio o DM. Nunca se propaga.
type DeliveryFailure struct {
	Target string
	Err    error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Target, e.Err)
}
func (e *DeliveryFailure) Unwrap() error { return e.Err }

// WrapStore envuelve err como StoreFailure, salvo los sentinels del dominio
// que el caller tiene que poder distinguir tal cual.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, s := range []error{
		ErrNotFound, ErrAlreadyTransitioned, ErrPickupFull, ErrPickupInProgress,
		ErrAlreadyQueued, ErrNotCaptainTurn, ErrPlayerUnavailable,
	} {
		if errors.Is(err, s) {
			return err
		}
	}
	var sf *StoreFailure
	if errors.As(err, &sf) {
		return err
	}
	return &StoreFailure{Op: op, Err: err}
}

func IsStoreFailure(err error) bool {
	var sf *StoreFailure
	return errors.As(err, &sf)
}
