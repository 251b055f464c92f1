// Package agent runs a coding-agent session: it accepts operations,
// turns them into tasks, and reports what happens as a stream of protocol
// events.
//
// # Architecture
//
//   - Codex: the client handle. Submit queues an operation and NextEvent
//     reads the event stream.
//   - Session: the state shared by tasks. It owns the conversation history,
//     token accounting, the rollout recorder, and sub-agent control.
//   - TurnContext: the immutable settings of one turn (cwd, policies,
//     model client, tools), built from the session defaults plus any
//     OverrideTurnContext.
//   - SessionTask: one unit of work. RegularTask runs the model loop,
//     CompactTask summarizes history, GitWorkflowTask drives the sdd/
//     branch lifecycle.
//
// Only one task runs at a time. Starting another aborts the running one
// with reason "replaced". Every task emits TaskStarted first and exactly
// one of TaskComplete or TurnAborted last.
//
// Cancellation follows the context tree: the session context is the
// parent of each task context, which is passed to the model client, the
// tool handlers, and the sandbox executor.
//
// # Quick Start
//
//	codex, err := agent.Spawn(ctx, agent.DefaultConfig(cwd), agent.Deps{Client: client})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	codex.Submit(ctx, protocol.UserInputOp(protocol.TextInput("Create a hello.py file")))
//
//	for {
//	    ev, err := codex.NextEvent(ctx)
//	    if err != nil {
//	        break
//	    }
//	    fmt.Printf("[%s] %s\n", ev.ID, ev.Msg.Type)
//	}
package agent
