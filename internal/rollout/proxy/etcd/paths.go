package etcd

import "path"

/*
rollout-registry/services/bindings/billing(%s)
rollout-registry/services/bindings-version/billing(%s)

The proxies watch the bindings folder. The version key only exists so
that rebinds are a compare-and-swap instead of a blind overwrite.
*/

const (
	rolloutRegistryFolder = "/rollout-registry"
	servicesFolder        = rolloutRegistryFolder + "/services"
)

// /rollout-registry/services/bindings/billing(%s)
func bindingKey(service string) string {
	return path.Join(
		servicesFolder,
		"bindings",
		service,
	)
}

// /rollout-registry/services/bindings-version/billing(%s)
func bindingVersionKey(service string) string {
	return path.Join(
		servicesFolder,
		"bindings-version",
		service,
	)
}
