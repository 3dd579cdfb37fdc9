package ports

import (
	"context"

	"github.com/alejandrodnm/coinbot/internal/domain"
)

// Prediction es el voto consultivo del clasificador: entra en la fusión
// como una opinión ponderada más, nunca como veto.
type Prediction struct {
	Signal     domain.Signal // Buy, Sell o Neutral
	Confidence float64       // [0,1]
}

// TrainResult resume un entrenamiento.
type TrainResult struct {
	Accuracy  float64
	Retrained bool
}

// Predictor es el clasificador estadístico opcional por símbolo.
type Predictor interface {
	// Train ajusta (o rehúsa reajustar) el modelo del símbolo con las
	// series de precios y volúmenes alineadas.
	Train(ctx context.Context, symbol string, prices, volumes []float64) (TrainResult, error)

	// Predict puntúa el estado actual del símbolo. Devuelve error si no
	// hay modelo entrenado o la serie es demasiado corta.
	Predict(ctx context.Context, symbol string, prices, volumes []float64) (Prediction, error)
}
