package domain

import (
	"math"
	"time"
)

type JobStatus string

const (
	StatusOpen       JobStatus = "open"
	StatusAssigned   JobStatus = "assigned"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type SpeedCategory string

const (
	SpeedExpress  SpeedCategory = "express"
	SpeedToday    SpeedCategory = "today"
	SpeedTomorrow SpeedCategory = "tomorrow"
	SpeedTwoDays  SpeedCategory = "two_days"
)

func (s SpeedCategory) Valid() bool {
	switch s {
	case SpeedExpress, SpeedToday, SpeedTomorrow, SpeedTwoDays:
		return true
	}
	return false
}

type PackageSize string

const (
	PackageSmall PackageSize = "small"
	PackageBig   PackageSize = "big"
	PackageLarge PackageSize = "large"
)

func (p PackageSize) Valid() bool {
	switch p {
	case PackageSmall, PackageBig, PackageLarge:
		return true
	}
	return false
}

type Location struct {
	Lat     float64
	Lng     float64
	Address string
	City    string
}

// JobDraft is what a completed booking flow hands to the dispatcher.
// Zero prices are filled in by the pricing service.
type JobDraft struct {
	Requester         Requester
	Size              PackageSize
	Speed             SpeedCategory
	Pickup            Location
	Dropoff           Location
	PickupContact     string
	DropoffContact    string
	Notes             string
	PriceForRequester int
	PriceForFulfiller int
}

type Job struct {
	ID                string
	Status            JobStatus
	Requester         Requester
	FulfillerID       string
	FulfillerPhone    string
	Size              PackageSize
	Speed             SpeedCategory
	Pickup            Location
	Dropoff           Location
	PickupContact     string
	DropoffContact    string
	Notes             string
	PriceForRequester int
	PriceForFulfiller int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Margin is what the marketplace keeps once the job is sold.
func (j Job) Margin() int {
	return j.PriceForRequester - j.PriceForFulfiller
}

// MarginPercent is Margin relative to the requester price, rounded.
func (j Job) MarginPercent() int {
	if j.PriceForRequester == 0 {
		return 0
	}
	return int(math.Round(float64(j.Margin()) * 100 / float64(j.PriceForRequester)))
}

// AssignedTo reports whether f holds the job.
func (j Job) AssignedTo(f Fulfiller) bool {
	return j.FulfillerPhone != "" && j.FulfillerPhone == f.Phone
}

func (s SpeedCategory) Label() string {
	switch s {
	case SpeedExpress:
		return "Express (within 3 hours)"
	case SpeedToday:
		return "Today"
	case SpeedTomorrow:
		return "Tomorrow"
	case SpeedTwoDays:
		return "Within two days"
	}
	return string(s)
}

func (p PackageSize) Label() string {
	switch p {
	case PackageSmall:
		return "Small (fits a scooter box)"
	case PackageBig:
		return "Big (needs a car)"
	case PackageLarge:
		return "Large (needs a van)"
	}
	return string(p)
}
