package fetch

// RetryAfterDelay exposes retryAfterDelay to the package tests.
var RetryAfterDelay = retryAfterDelay
