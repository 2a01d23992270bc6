package domain

import "math"

// Direction es el lado que conviene comprar dado un fair value.
type Direction string

const (
	BuyYes Direction = "BUY_YES"
	BuyNo  Direction = "BUY_NO"
)

// TokenSide devuelve el token que se compra en esta dirección.
func (d Direction) TokenSide() TokenSide {
	if d == BuyNo {
		return SideNo
	}
	return SideYes
}

// EdgeResult es la clasificación de un mispricing.
type EdgeResult struct {
	HasEdge   bool
	Edge      float64 // |fairValue - marketPrice|
	Direction Direction
}

// DetectEdge compara el fair value con el precio YES del mercado.
// edge > 0 → BUY_YES, si no BUY_NO. Hay edge cuando |edge| >= threshold.
func DetectEdge(fairValue, marketPrice, threshold float64) EdgeResult {
	edge := fairValue - marketPrice
	dir := BuyNo
	if edge > 0 {
		dir = BuyYes
	}
	abs := math.Abs(edge)
	return EdgeResult{
		HasEdge:   abs >= threshold,
		Edge:      abs,
		Direction: dir,
	}
}
