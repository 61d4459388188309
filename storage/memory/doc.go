// Package memory provides an in-process implementation of the storage
// interfaces. It is intended for development, tests and single-instance
// deployments: state is lost on restart and not shared across replicas.
//
// Atomic consumption of codes and refresh tokens is a check-and-delete under
// the store's write lock, so at most one of any number of concurrent callers
// redeems a given credential.
package memory
