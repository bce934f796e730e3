// Package controller runs the fixed-period sense, decide and act loop of the
// master and of each robot agent.
package controller

import (
	"math"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/robotio"
)

// ProtectionConfig holds the thresholds of the collision and edge guard on
// the normalized sensor layout of robotio.
type ProtectionConfig struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	ProxThreshold float64 `yaml:"prox_threshold" json:"prox_threshold"`
	EdgeThreshold float64 `yaml:"edge_threshold" json:"edge_threshold"`
}

func DefaultProtection() ProtectionConfig {
	return ProtectionConfig{Enabled: true, ProxThreshold: 0.75, EdgeThreshold: 0.55}
}

// Protect stops the robot when it drives straight or on a wide curve toward
// a close obstacle or the arena edge. Spins and tight turns pass unchanged.
func Protect(left, right float64, sensors []float64, cfg ProtectionConfig) (float64, float64, bool) {
	if !cfg.Enabled || len(sensors) < robotio.SensorCount {
		return left, right, false
	}
	if left == 0 && right == 0 {
		return left, right, false
	}
	if left != right && math.Abs((left+right)/(right-left)) < 1 {
		return left, right, false
	}

	const front, back = robotio.FrontProximity, robotio.FrontProximity + robotio.BackProximity
	edge := sensors[back] >= cfg.EdgeThreshold || sensors[back+1] >= cfg.EdgeThreshold
	if left > 0 && right > 0 && (edge || anyAbove(sensors[:front], cfg.ProxThreshold)) {
		return 0, 0, true
	}
	if left < 0 && right < 0 && (edge || anyAbove(sensors[front:back], cfg.ProxThreshold)) {
		return 0, 0, true
	}
	return left, right, false
}

func anyAbove(values []float64, threshold float64) bool {
	for _, v := range values {
		if v > threshold {
			return true
		}
	}
	return false
}
