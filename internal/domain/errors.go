package domain

import "errors"

var (
	// ErrInsufficientHistory indica que la serie de un instrumento todavía
	// no tiene muestras suficientes para la operación pedida. El motor trata
	// al instrumento como COLLECTING: sin decisión, nunca fatal.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrInvalidTransition indica un open sobre posición ya abierta o un
	// close sin posición. Se loggea y se ignora, nunca tumba el loop.
	ErrInvalidTransition = errors.New("invalid position transition")

	// ErrInsufficientCash indica que el coste de la entrada (con fee y
	// slippage) no cabe en el cash disponible. Es un rechazo de admisión
	// tardío, no una transición ilegal.
	ErrInsufficientCash = errors.New("insufficient cash")
)
