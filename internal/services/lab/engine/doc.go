// Package engine runs one interactive drill: the ordered scenario steps of a
// run, the per-step response deadline, the single hint allowed per step, and
// the final score.
//
// An Engine is an owned state object. Oracle calls run on background
// goroutines and their completions are applied under the engine lock, so
// every event (oracle completion, learner action, deadline expiry) is applied
// atomically and in isolation. Completions for a step the run has moved past,
// and every completion after Close, are dropped.
//
// States move Initializing -> AwaitingResponse -> Evaluating ->
// (AwaitingResponse | Finished). Failed is terminal and is reached when an
// oracle failure curtails the run; IsFinished reports true for both terminal
// states and Finalize assembles a RunResult from either.
package engine
