// Package redcap talks to a REDCap project over its REST API: finding or
// creating participant records keyed by institutional NetID, deciding which
// survey instrument a participant should fill out next, and generating
// single-use survey links. Completed registrations are snapshotted in a
// cache so repeat visits skip the export round trip.
package redcap
