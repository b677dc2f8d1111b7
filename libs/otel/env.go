package otelx

import "os"

// lookupEnv exists so tests can stub environment reads.
var lookupEnv = os.LookupEnv
