package service

import (
	"errors"
	"fmt"
	"math"
)

// TokenRates son tarifas en USD por millon de tokens.
type TokenRates struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Rates es la tabla estatica de tarifas por modelo. No existe tarifa por
// defecto: un modelo sin entrada se rechaza, nunca se cobra en cero.
var Rates = map[string]TokenRates{
	"gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4o":      {InputPer1M: 5.0, OutputPer1M: 15.0},
}

var ErrUnknownModel = errors.New("unknown model rates")

// CostUSD calcula el costo de una completion a partir de los contadores de
// tokens. Redondea a 10 decimales para que la acumulacion repetida sobre los
// totales de la sesion sea determinista.
func CostUSD(model string, promptTokens, completionTokens int) (float64, error) {
	rates, ok := Rates[model]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	cost := (float64(promptTokens)/1_000_000)*rates.InputPer1M + (float64(completionTokens)/1_000_000)*rates.OutputPer1M
	return math.Round(cost*1e10) / 1e10, nil
}
