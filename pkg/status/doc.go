// Package status caches the cluster resource snapshot the scheduler reads.
//
// The "platform status updater" task calls Provider.Update on an interval;
// admission control calls Provider.Snapshot, which is a single atomic load.
package status
