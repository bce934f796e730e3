package controller

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/agent"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/coord"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/model"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/robotio"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/stats"
	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/transport"
)

func sensorsWith(values map[int]float64) []float64 {
	s := make([]float64, robotio.SensorCount)
	for i, v := range values {
		s[i] = v
	}
	return s
}

func TestProtect(t *testing.T) {
	cfg := DefaultProtection()
	cases := []struct {
		name        string
		left, right float64
		sensors     []float64
		protected   bool
	}{
		{name: "forward into obstacle", left: 200, right: 200, sensors: sensorsWith(map[int]float64{2: 0.8}), protected: true},
		{name: "forward with obstacle behind", left: 200, right: 200, sensors: sensorsWith(map[int]float64{5: 0.9})},
		{name: "backward into obstacle", left: -200, right: -200, sensors: sensorsWith(map[int]float64{6: 0.76}), protected: true},
		{name: "forward onto edge", left: 100, right: 100, sensors: sensorsWith(map[int]float64{8: 0.55}), protected: true},
		{name: "backward onto edge", left: -100, right: -100, sensors: sensorsWith(map[int]float64{7: 0.6}), protected: true},
		{name: "wide curve into obstacle", left: 200, right: 100, sensors: sensorsWith(map[int]float64{0: 0.8}), protected: true},
		{name: "spin near obstacle", left: 100, right: -100, sensors: sensorsWith(map[int]float64{2: 1})},
		{name: "tight turn near obstacle", left: 100, right: -50, sensors: sensorsWith(map[int]float64{2: 1})},
		{name: "threshold is exclusive for prox", left: 100, right: 100, sensors: sensorsWith(map[int]float64{2: 0.75})},
		{name: "stopped", sensors: sensorsWith(map[int]float64{2: 1})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, r, protected := Protect(tc.left, tc.right, tc.sensors, cfg)
			if protected != tc.protected {
				t.Fatalf("protected=%v want %v", protected, tc.protected)
			}
			if protected && (l != 0 || r != 0) {
				t.Fatalf("protection must stop the robot, got %f %f", l, r)
			}
			if !protected && (l != tc.left || r != tc.right) {
				t.Fatalf("unprotected command changed: %f %f", l, r)
			}
		})
	}

	cfg.Enabled = false
	if _, _, protected := Protect(200, 200, sensorsWith(map[int]float64{2: 1}), cfg); protected {
		t.Fatal("disabled protection must pass commands through")
	}
}

func loopParams() coord.Params {
	return coord.Params{
		Evals:        1,
		EvalTime:     3,
		PostEvalTime: 4,
		ReEvalWeight: 0.2,
		MutationRate: 0.1,
		Quorum:       1,
		GraceTicks:   3,
		Individual: agent.Config{
			Dimensions: model.Dimensions{
				Sensors:          robotio.SensorCount,
				Actions:          robotio.MotorCount,
				HiddenAction:     3,
				HiddenPrediction: 3,
			},
			ActionActivation:     "tanh",
			PredictionActivation: "sigmoid",
		},
	}
}

func TestControllersRunToPostEvaluation(t *testing.T) {
	params := loopParams()
	hub := transport.NewHub(transport.HubOptions{FragmentSize: 16})
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	master, err := coord.NewMaster(coord.MasterOptions{
		Params: params, Channel: hub.Master(), Rand: rand.New(rand.NewSource(1)), Clock: clock,
	})
	if err != nil {
		t.Fatalf("new master: %v", err)
	}
	agentChannel := hub.Agent("thymio-1")
	coordAgent, err := coord.NewAgent(coord.AgentOptions{
		Name: "thymio-1", Params: params, Channel: agentChannel, Rand: rand.New(rand.NewSource(2)), Clock: clock,
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	dir := t.TempDir()
	predLog, err := stats.OpenPredLog(dir, "thymio-1")
	if err != nil {
		t.Fatalf("open pred log: %v", err)
	}
	sensor := robotio.NewStaticSensor(robotio.SensorCount)
	if err := sensor.Set(sensorsWith(map[int]float64{0: 0.3, 7: 0.2, 8: 0.2})); err != nil {
		t.Fatalf("set sensor: %v", err)
	}
	drive := robotio.NewRecordingDrive()

	mc, err := NewMasterController(MasterOptions{Master: master, Channel: hub.Master()})
	if err != nil {
		t.Fatalf("new master controller: %v", err)
	}
	ac, err := NewAgentController(AgentOptions{
		Agent:      coordAgent,
		Channel:    agentChannel,
		Sensors:    sensor,
		Drive:      drive,
		Limits:     robotio.DefaultLimits(),
		Protection: DefaultProtection(),
		PredLog:    predLog,
	})
	if err != nil {
		t.Fatalf("new agent controller: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 200 && master.State() != coord.Stop; i++ {
		if err := mc.Tick(ctx); err != nil {
			t.Fatalf("master tick %d: %v", i, err)
		}
		if err := ac.Tick(ctx); err != nil {
			t.Fatalf("agent tick %d: %v", i, err)
		}
	}
	if master.State() != coord.Stop {
		t.Fatalf("master did not finish, state %s", master.State())
	}
	if !coordAgent.PostEval() || coordAgent.EvalID() != params.Evals {
		t.Fatalf("agent should have run the post evaluation, eval=%d post=%v", coordAgent.EvalID(), coordAgent.PostEval())
	}
	if drive.Writes() != ac.Ticks() {
		t.Fatalf("every tick must command the motors: writes=%d ticks=%d", drive.Writes(), ac.Ticks())
	}
	if l, r := drive.Last(); l != 0 || r != 0 {
		t.Fatalf("motors should be stopped after the window closed, got %f %f", l, r)
	}

	if err := predLog.Close(); err != nil {
		t.Fatalf("close pred log: %v", err)
	}
	rows, err := stats.ReadPred(filepath.Join(dir, stats.PredFile("thymio-1")))
	if err != nil {
		t.Fatalf("read pred: %v", err)
	}
	if len(rows) != params.PostEvalTime {
		t.Fatalf("expected %d post evaluation rows, got %d", params.PostEvalTime, len(rows))
	}
	for _, row := range rows {
		if len(row.Predictions) != robotio.SensorCount || len(row.Selected) != 2 || len(row.Applied) != 2 {
			t.Fatalf("malformed pred row: %+v", row)
		}
	}

	if err := ac.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := agentChannel.Send([]byte("x")); err == nil {
		t.Fatal("channel should be closed after shutdown")
	}
}

func TestAgentControllerRunStopsOnCancel(t *testing.T) {
	params := loopParams()
	hub := transport.NewHub(transport.HubOptions{})
	channel := hub.Agent("a")
	coordAgent, err := coord.NewAgent(coord.AgentOptions{
		Name: "a", Params: params, Channel: channel, Rand: rand.New(rand.NewSource(3)),
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	drive := robotio.NewRecordingDrive()
	ac, err := NewAgentController(AgentOptions{
		Agent:   coordAgent,
		Channel: channel,
		Sensors: robotio.NewStaticSensor(robotio.SensorCount),
		Drive:   drive,
		Limits:  robotio.DefaultLimits(),
	})
	if err != nil {
		t.Fatalf("new agent controller: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := ac.Run(ctx, time.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}
	if drive.Writes() == 0 {
		t.Fatal("expected motor commands while running")
	}
	if l, r := drive.Last(); l != 0 || r != 0 {
		t.Fatalf("expected final stop command, got %f %f", l, r)
	}
	if hub.Master().Poll() == nil {
		t.Fatal("expected the hello frame at the master")
	}
}

func TestNewAgentControllerValidates(t *testing.T) {
	if _, err := NewAgentController(AgentOptions{}); err == nil {
		t.Fatal("expected error without agent")
	}
	if _, err := NewMasterController(MasterOptions{}); err == nil {
		t.Fatal("expected error without master")
	}
}
