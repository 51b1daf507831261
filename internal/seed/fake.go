// Package seed builds fake clinics for demos, load tests and the in-memory store.
package seed

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/slot-booking-core/internal/appointment"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var schedules = []appointment.WorkingHours{
	{Start: "09:00", End: "17:00", SlotDuration: 30},
	{Start: "08:00", End: "12:00", SlotDuration: 15},
	{Start: "13:00", End: "18:30", SlotDuration: 20},
	{Start: "10:00", End: "16:00", SlotDuration: 45},
}

var timezones = []string{"UTC", "Europe/Berlin", "Asia/Kolkata", "America/New_York"}

type User struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	Email    string
	Role     appointment.Role
}

type Clinic struct {
	TenantID uuid.UUID
	Name     string
	Users    []User
	Doctors  []appointment.Doctor
}

// Patients returns the clinic's patient users.
func (c Clinic) Patients() []User {
	var out []User
	for _, u := range c.Users {
		if u.Role == appointment.RolePatient {
			out = append(out, u)
		}
	}
	return out
}

// Clinics builds n tenants, each with its own doctors and patients.
func Clinics(f *gofakeit.Faker, n, doctors, patients int) []Clinic {
	out := make([]Clinic, 0, n)
	for i := 0; i < n; i++ {
		c := Clinic{TenantID: uuid.New(), Name: f.Company() + " Clinic"}

		for j := 0; j < doctors; j++ {
			u := fakeUser(f, c.TenantID, appointment.RoleDoctor)
			c.Users = append(c.Users, u)
			c.Doctors = append(c.Doctors, appointment.Doctor{
				ID:             uuid.New(),
				TenantID:       c.TenantID,
				UserID:         u.ID,
				Name:           "Dr. " + u.Name,
				Specialization: specialties[f.Number(0, len(specialties)-1)],
				WorkingHours:   schedules[f.Number(0, len(schedules)-1)],
				Timezone:       timezones[f.Number(0, len(timezones)-1)],
			})
		}
		for j := 0; j < patients; j++ {
			c.Users = append(c.Users, fakeUser(f, c.TenantID, appointment.RolePatient))
		}
		c.Users = append(c.Users, fakeUser(f, c.TenantID, appointment.RoleAdmin))

		out = append(out, c)
	}
	return out
}

func fakeUser(f *gofakeit.Faker, tenantID uuid.UUID, role appointment.Role) User {
	first, last := f.FirstName(), f.LastName()
	id := uuid.New()
	return User{
		ID:       id,
		TenantID: tenantID,
		Name:     first + " " + last,
		Email:    fmt.Sprintf("%s.%s.%s@%s", strings.ToLower(first), strings.ToLower(last), id.String()[:8], f.DomainName()),
		Role:     role,
	}
}

// Intake returns a valid booking request for a patient.
func Intake(f *gofakeit.Faker, doctorID, slotID uuid.UUID) appointment.BookRequest {
	return appointment.BookRequest{
		DoctorID:    doctorID,
		TimeSlotID:  slotID,
		Phone:       f.Phone(),
		Gender:      []string{"male", "female", "other"}[f.Number(0, 2)],
		DateOfBirth: f.DateRange(mustDate("1940-01-01"), mustDate("2010-12-31")).Format("2006-01-02"),
		Address:     f.Street() + ", " + f.City(),
		Note:        "Preferred contact: " + f.Email(),
	}
}

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}
