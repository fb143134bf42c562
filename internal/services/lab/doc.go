// Package lab contains the interactive drill boundary of the preparedness
// portal.
//
// A drill run walks a learner through generated disaster-response scenarios,
// enforces a response deadline per step, throttles hints, and scores each
// answer through external oracles before handing a run result to progress
// tracking.
package lab
