package domain

// Optional representa un valor que puede no estar configurado
// (ej: sin rol de whitelist = sin restricción).
type Optional[T any] struct {
	Value T
	Valid bool
}

func Some[T any](v T) Optional[T] { return Optional[T]{Value: v, Valid: true} }

func None[T any]() Optional[T] { return Optional[T]{} }

// Get devuelve el valor y si estaba presente.
func (o Optional[T]) Get() (T, bool) { return o.Value, o.Valid }

// Ptr es útil para escanear / bindear columnas NULL.
func (o Optional[T]) Ptr() *T {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

func FromPtr[T any](p *T) Optional[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}
