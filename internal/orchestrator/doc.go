// Package orchestrator runs the queen, research and implementation agents
// over one orchestration session.
//
// A Pipeline takes a session from the analysis stage to complete or failed,
// calling the LLM once per stage. Each stage prompt carries the output of
// the stages before it. Every transition is reported as a StageEvent on an
// unbuffered channel, and every run ends with exactly one terminal event
// unless its consumer goes away first.
//
// The AgentRegistry tracks what each fixed agent is doing. It is written by
// the pipeline and read by status endpoints and the broadcast hub through a
// Notifier.
//
// Example usage:
//
//	p, _ := orchestrator.NewPipeline(orchestrator.RequiredConfig{Store: db, LLM: completer})
//	id, events, err := p.Orchestrate(ctx, "Deploy to production")
//	for ev := range events {
//		fmt.Println(ev.WireType(), ev.Agent)
//	}
package orchestrator
