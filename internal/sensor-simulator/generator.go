package sensor_simulator

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
)

// ====== Tunables ======
const (
	// uscita dell'ACS712 a 0 A e sensibilità (V/A)
	acsBaseline    = 2.5
	acsSensitivity = 0.1

	mainsVolts  = 120.0
	mainsJitter = 1.5

	// assorbimento quando il carico è acceso (A)
	loadAmpsOn = 1.2
	// il dishwasher scalda l'acqua: assorbe di più
	heaterAmpsOn = 8.5

	moistMin, moistMax = 20.0, 80.0
	flowOnLPM          = 6.0 // litri/minuto durante un ciclo
)

// BoardPlan lists the sensors of one board: role -> payload key.
type BoardPlan struct {
	Device string
	Board  string
	Fields map[string]string
}

// PlanFromIndex groups the index entries by board.
func PlanFromIndex(idx *model.Index) []BoardPlan {
	byBoard := map[string]*BoardPlan{}
	var order []string
	for _, dev := range idx.Devices() {
		roles := idx.Roles(dev)
		names := make([]string, 0, len(roles))
		for r := range roles {
			names = append(names, r)
		}
		sort.Strings(names)
		for _, r := range names {
			e := roles[r]
			p, ok := byBoard[e.BoardName]
			if !ok {
				p = &BoardPlan{Device: dev, Board: e.BoardName, Fields: map[string]string{}}
				byBoard[e.BoardName] = p
				order = append(order, e.BoardName)
			}
			p.Fields[r] = e.SensorField
		}
	}
	out := make([]BoardPlan, 0, len(order))
	for _, b := range order {
		out = append(out, *byBoard[b])
	}
	return out
}

// BoardGenerator keeps the simulated physical state of one board and
// turns it into payloads shaped like the stored documents.
type BoardGenerator struct {
	mu   sync.Mutex
	plan BoardPlan
	rnd  *rand.Rand

	moisture float64
	loadOn   bool
	until    time.Time // fine dello stato corrente del carico
	heavy    bool      // carico con resistenza (dishwasher)
}

func NewBoardGenerator(plan BoardPlan, seed int64) *BoardGenerator {
	_, hasWater := plan.Fields[model.RoleWater]
	return &BoardGenerator{
		plan:     plan,
		rnd:      rand.New(rand.NewSource(seed)),
		moisture: 40,
		heavy:    hasWater,
	}
}

func (g *BoardGenerator) Board() string { return g.plan.Board }

// Next advances the state to now and returns the payload for that instant.
func (g *BoardGenerator) Next(now time.Time, boardField string) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.step(now)
	p := map[string]any{boardField: g.plan.Board}
	for role, field := range g.plan.Fields {
		switch role {
		case model.RoleMoisture:
			p[field] = round2(g.moisture)
		case model.RoleWater:
			flow := 0.0
			if g.loadOn {
				flow = flowOnLPM + g.rnd.NormFloat64()*0.3
			}
			p[field] = round2(math.Max(0, flow))
		case model.RoleCurrent:
			amps := 0.05
			if g.loadOn {
				amps = loadAmpsOn
				if g.heavy {
					amps = heaterAmpsOn
				}
			}
			amps += g.rnd.NormFloat64() * 0.05
			p[field] = round3(acsBaseline + amps*acsSensitivity)
		case model.RoleVoltage:
			p[field] = round2(mainsVolts + g.rnd.NormFloat64()*mainsJitter)
		default:
			p[field] = round2(g.rnd.Float64())
		}
	}
	return p
}

// step fa evolvere l'umidità (random walk) e il ciclo on/off del carico.
func (g *BoardGenerator) step(now time.Time) {
	g.moisture = clamp(g.moisture+g.rnd.NormFloat64()*0.8, moistMin, moistMax)
	if now.Before(g.until) {
		return
	}
	g.loadOn = !g.loadOn
	var d time.Duration
	if g.loadOn {
		d = time.Duration(5+g.rnd.Intn(15)) * time.Minute
	} else {
		d = time.Duration(10+g.rnd.Intn(30)) * time.Minute
	}
	g.until = now.Add(d)
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
func round3(x float64) float64 { return math.Round(x*1000) / 1000 }

func clamp(x, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, x))
}
