package classifier

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/pacing"
)

// CommandResult reports the outcome of a GM command. Invalid input is a
// no-op with OK=false.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func ok(format string, args ...any) CommandResult {
	return CommandResult{OK: true, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) CommandResult {
	return CommandResult{OK: false, Message: fmt.Sprintf(format, args...)}
}

// HandleCommand applies a GM chat command.
func (c *Classifier) HandleCommand(cmd domain.GMCommand) CommandResult {
	var res CommandResult
	c.run(func() {
		res = c.handleCommand(cmd)
		level := c.logger.Info
		if !res.OK {
			level = c.logger.Warn
		}
		level("[CLASSIFIER] GM command", "type", cmd.Type, "ok", res.OK, "message", res.Message)
	})
	return res
}

func (c *Classifier) handleCommand(cmd domain.GMCommand) CommandResult {
	args := cmd.Args
	switch strings.ToLower(cmd.Type) {
	case "act":
		return c.cmdAct(args)
	case "scene":
		return c.cmdScene(args)
	case "spotlight":
		if len(args) != 2 {
			return invalid("usage: /spotlight <player> <debt>")
		}
		debt, err := strconv.Atoi(args[1])
		if err != nil {
			return invalid("spotlight debt must be an integer: %q", args[1])
		}
		c.machine.SetSpotlightDebt(args[0], debt)
		return ok("spotlight debt for %s set to %d", args[0], debt)
	case "engagement":
		if len(args) != 2 {
			return invalid("usage: /engagement <player> <HIGH|MEDIUM|LOW>")
		}
		level, valid := pacing.ParseEngagement(args[1])
		if !valid {
			return invalid("unknown engagement level %q", args[1])
		}
		c.machine.SetEngagement(args[0], level)
		return ok("engagement for %s set to %s", args[0], level)
	case "separation":
		if len(args) != 1 {
			return invalid("usage: /separation <NORMAL|SPLIT|CRITICAL>")
		}
		s, valid := pacing.ParseSeparation(args[0])
		if !valid {
			return invalid("unknown separation status %q", args[0])
		}
		c.machine.SetSeparation(s)
		return ok("separation set to %s", s)
	case "climax":
		if len(args) != 1 {
			return invalid("usage: /climax <NORMAL|APPROACHING|ESCALATING|CLIMAX>")
		}
		v, valid := pacing.ParseClimax(args[0])
		if !valid {
			return invalid("unknown climax level %q", args[0])
		}
		c.machine.SetClimax(v)
		return ok("climax set to %s", v)
	case "seed":
		return c.cmdSeed(args)
	case "thread":
		return c.cmdThread(args)
	case "beat":
		beat := strings.Join(args, " ")
		if beat == "" {
			return invalid("usage: /beat <text>")
		}
		c.machine.SetNextBeat(beat)
		return ok("next beat set")
	case "sleep":
		if c.machine.State() != domain.StateActive {
			return invalid("cannot sleep from %s", c.machine.State())
		}
		c.sleep("command")
		return ok("assistant sleeping")
	case "wake":
		switch c.machine.State() {
		case domain.StateSleep:
			c.wake("command")
		case domain.StatePregame:
			c.activate(domain.ActivationCommand)
		default:
			return ok("assistant already active")
		}
		return ok("assistant active")
	case "endtime":
		return c.cmdEndTime(args)
	case "npc":
		return c.cmdNPC(args)
	case "session":
		if len(args) != 1 || !strings.EqualFold(args[0], "start") {
			return invalid("usage: /session start")
		}
		if !c.startSession() {
			return invalid("cannot start a session from %s", c.machine.State())
		}
		return ok("new session started")
	default:
		return invalid("unknown command %q", cmd.Type)
	}
}

func (c *Classifier) cmdAct(args []string) CommandResult {
	if len(args) < 1 || len(args) > 2 {
		return invalid("usage: /act <number> [planned_minutes]")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return invalid("act must be a positive integer: %q", args[0])
	}
	planned := 0
	if len(args) == 2 {
		if planned, err = strconv.Atoi(args[1]); err != nil || planned < 0 {
			return invalid("planned minutes must be a non-negative integer: %q", args[1])
		}
	}
	if c.machine.State() == domain.StatePregame {
		c.activate(domain.ActivationCommand)
	}
	c.machine.AdvanceAct(n, planned)
	c.emit(domain.TriggerSceneTransition, domain.P2, domain.SourceCommand, map[string]any{
		"act":             n,
		"planned_minutes": planned,
	})
	return ok("act %d started", n)
}

func (c *Classifier) cmdScene(args []string) CommandResult {
	if len(args) == 0 {
		return invalid("usage: /scene <name> [planned_minutes]")
	}
	planned := 0
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[len(args)-1]); err == nil {
			if n < 0 {
				return invalid("planned minutes must be non-negative")
			}
			planned = n
			args = args[:len(args)-1]
		}
	}
	name := strings.Join(args, " ")
	if c.machine.State() == domain.StatePregame {
		c.activate(domain.ActivationCommand)
	}
	c.machine.AdvanceScene(name, planned)
	c.emit(domain.TriggerSceneTransition, domain.P2, domain.SourceCommand, map[string]any{
		"scene":           name,
		"planned_minutes": planned,
	})
	return ok("scene %q started", name)
}

func (c *Classifier) cmdSeed(args []string) CommandResult {
	if len(args) == 0 {
		return invalid("usage: /seed <name> | /seed reveal <name>")
	}
	if strings.EqualFold(args[0], "reveal") {
		name := strings.Join(args[1:], " ")
		if name == "" {
			return invalid("usage: /seed reveal <name>")
		}
		c.machine.RevealSeed(name)
		return ok("seed %q revealed", name)
	}
	name := strings.Join(args, " ")
	c.machine.PlantSeed(name)
	return ok("seed %q planted", name)
}

func (c *Classifier) cmdThread(args []string) CommandResult {
	if len(args) == 0 {
		return invalid("usage: /thread <name> | /thread resolve <name>")
	}
	if strings.EqualFold(args[0], "resolve") {
		name := strings.Join(args[1:], " ")
		if name == "" {
			return invalid("usage: /thread resolve <name>")
		}
		c.machine.ResolveThread(name)
		return ok("thread %q resolved", name)
	}
	name := strings.Join(args, " ")
	c.machine.SetThread(name)
	return ok("thread %q set", name)
}

// cmdEndTime accepts "HH:MM" (next occurrence, local to the clock) or "+M" minutes.
func (c *Classifier) cmdEndTime(args []string) CommandResult {
	if len(args) != 1 {
		return invalid("usage: /endtime <HH:MM|+minutes>")
	}
	now := c.clock.Now()
	var end time.Time
	if rest, found := strings.CutPrefix(args[0], "+"); found {
		mins, err := strconv.Atoi(rest)
		if err != nil || mins <= 0 {
			return invalid("relative end time must be a positive number of minutes: %q", args[0])
		}
		end = now.Add(time.Duration(mins) * time.Minute)
	} else {
		t, err := time.Parse("15:04", args[0])
		if err != nil {
			return invalid("end time must be HH:MM or +minutes: %q", args[0])
		}
		end = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		if !end.After(now) {
			end = end.Add(24 * time.Hour)
		}
	}
	c.machine.SetSessionEnd(end)
	c.gates = gateState{}
	return ok("session end set to %s", end.Format("15:04"))
}

func (c *Classifier) cmdNPC(args []string) CommandResult {
	if len(args) == 0 {
		return invalid("usage: /npc refresh | /npc serve <name> | /npc reset <name>")
	}
	sub := strings.ToLower(args[0])
	name := strings.Join(args[1:], " ")
	switch sub {
	case "refresh":
		if c.cache == nil {
			return invalid("no NPC cache source configured")
		}
		c.requestCacheRefresh()
		return ok("NPC cache refresh requested")
	case "serve":
		e := c.findNPC(name)
		if e == nil {
			return invalid("unknown NPC %q", name)
		}
		e.MarkServed(c.clock.Now())
		c.emit(domain.TriggerNPCFirstSeen, domain.P2, domain.SourceCommand, map[string]any{
			"npc":    e.Name,
			"forced": true,
		})
		return ok("NPC %q served", e.Name)
	case "reset":
		e := c.findNPC(name)
		if e == nil {
			return invalid("unknown NPC %q", name)
		}
		e.Served = false
		e.ServedAt = time.Time{}
		return ok("NPC %q reset", e.Name)
	default:
		return invalid("unknown /npc subcommand %q", sub)
	}
}

func (c *Classifier) findNPC(name string) *domain.NPCCacheEntry {
	if name == "" {
		return nil
	}
	for _, m := range c.npcs {
		for _, term := range m.terms {
			if strings.EqualFold(term, name) {
				return m.entry
			}
		}
	}
	return nil
}
