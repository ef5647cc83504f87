// Package runner provides the ramping-VU execution engine for stagefire.
//
// A [Runner] walks an ordered list of [Stage] values. During each stage the
// number of virtual users (VUs) moves linearly from the previous stage's
// target to the current one. Every VU is a goroutine that loops over the
// configured [Requester] until it is retired.
//
// # Basic Usage
//
//	r := runner.New(runner.Options{
//		StartVUs: 1,
//		Stages: []runner.Stage{
//			{Duration: time.Minute, Target: 2},
//			{Duration: 30 * time.Second, Target: 0},
//		},
//		RatePerSecond: 10,
//		Requester:     prober,
//	})
//	result := r.Run(ctx)
//
// # Ramp-down and Stop
//
// When the target drops, the highest numbered VUs are retired. A retired VU
// finishes its current iteration and is cancelled if it is still running
// after GracefulRampDown. After the last stage every VU is retired with
// GracefulStop as the grace period. Iterations cut short this way are
// reported in [Result.Interrupted], never as errors.
//
// # Rate Cap
//
// RatePerSecond is shared by all VUs: each iteration waits on a common
// rate limiter before it starts.
//
// # Middleware
//
//   - [WithLogging]: Log failed iterations through zap
//
// # Error Handling
//
// The [HTTPError] type provides structured error information for HTTP requests:
//
//	var httpErr *runner.HTTPError
//	if errors.As(err, &httpErr) {
//		fmt.Printf("Status: %d\n", httpErr.StatusCode)
//	}
package runner
