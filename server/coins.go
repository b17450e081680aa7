package main

import "math/rand"

// Vec3 is a position in world space
type Vec3 [3]float64

// SpawnPoint is where fresh and reconnected players are placed
var SpawnPoint = Vec3{0, 0, 0}

const (
	coinHeight   = 1.0
	coinSpacing  = 5.0
	gridHalfSize = 3 // grid spans -3..3 on both axes
	scatterCount = 30
	scatterRange = 30.0
)

// CoinLayout produces the coin positions for a fresh room
type CoinLayout interface {
	Generate() []Vec3
}

// GridLayout places coins on a fixed square grid around the spawn, skipping
// the spawn cell itself. Every room gets the same field.
type GridLayout struct{}

// Generate returns the grid coordinates in row-major order
func (GridLayout) Generate() []Vec3 {
	coins := make([]Vec3, 0, (2*gridHalfSize+1)*(2*gridHalfSize+1)-1)
	for i := -gridHalfSize; i <= gridHalfSize; i++ {
		for j := -gridHalfSize; j <= gridHalfSize; j++ {
			if i == 0 && j == 0 {
				continue
			}
			coins = append(coins, Vec3{float64(i) * coinSpacing, coinHeight, float64(j) * coinSpacing})
		}
	}
	return coins
}

// ScatterLayout spreads coins pseudo-randomly. The same seed always yields the
// same field; a zero seed still produces a fixed layout.
type ScatterLayout struct {
	Seed int64
}

// Generate returns scatterCount coordinates rounded to one decimal so they
// survive a JSON round trip unchanged
func (s ScatterLayout) Generate() []Vec3 {
	rng := rand.New(rand.NewSource(s.Seed))
	coins := make([]Vec3, 0, scatterCount)
	for len(coins) < scatterCount {
		p := Vec3{
			round1(rng.Float64()*2*scatterRange - scatterRange),
			coinHeight,
			round1(rng.Float64()*2*scatterRange - scatterRange),
		}
		if p[0] == SpawnPoint[0] && p[2] == SpawnPoint[2] {
			continue
		}
		if indexOfCoin(coins, p) >= 0 {
			continue
		}
		coins = append(coins, p)
	}
	return coins
}

// LayoutByName maps a config value to a layout, defaulting to the grid
func LayoutByName(name string, seed int64) CoinLayout {
	if name == "scatter" {
		return ScatterLayout{Seed: seed}
	}
	return GridLayout{}
}

// ClaimCoin removes the first coin exactly matching pos. It reports whether a
// coin was removed; on false the returned slice is coins itself. The input
// slice is never modified, so snapshots taken earlier stay valid.
func ClaimCoin(coins []Vec3, pos Vec3) (bool, []Vec3) {
	i := indexOfCoin(coins, pos)
	if i < 0 {
		return false, coins
	}
	next := make([]Vec3, 0, len(coins)-1)
	next = append(next, coins[:i]...)
	next = append(next, coins[i+1:]...)
	return true, next
}

func indexOfCoin(coins []Vec3, pos Vec3) int {
	for i, c := range coins {
		if c == pos {
			return i
		}
	}
	return -1
}

func round1(v float64) float64 {
	if v < 0 {
		return -float64(int64(-v*10+0.5)) / 10
	}
	return float64(int64(v*10+0.5)) / 10
}
