// Package fake generates realistic throwaway values for template fixtures.
package fake

import (
	"math/rand"
	"time"

	"github.com/go-faker/faker/v4"
)

func init() {
	faker.SetRandomSource(rand.NewSource(time.Now().UnixNano()))
}

// Name generates a random full name.
func Name() string {
	var person struct {
		FirstName string `faker:"first_name"`
		LastName  string `faker:"last_name"`
	}
	_ = faker.FakeData(&person)
	return person.FirstName + " " + person.LastName
}

// Email generates a random email address.
func Email() string {
	var user struct {
		Email string `faker:"email"`
	}
	_ = faker.FakeData(&user)
	return user.Email
}

// Phone generates a random phone number.
func Phone() string {
	var user struct {
		Phone string `faker:"phone_number"`
	}
	_ = faker.FakeData(&user)
	return user.Phone
}

// Username generates a random login-style username.
func Username() string {
	var user struct {
		Username string `faker:"username"`
	}
	_ = faker.FakeData(&user)
	return user.Username
}

// Street generates a random street address.
func Street() string {
	var address struct {
		Street string `faker:"street_address"`
	}
	_ = faker.FakeData(&address)
	return address.Street
}

// City generates a random city name.
func City() string {
	var address struct {
		City string `faker:"city"`
	}
	_ = faker.FakeData(&address)
	return address.City
}

// Country generates a random country name.
func Country() string {
	var address struct {
		Country string `faker:"country"`
	}
	_ = faker.FakeData(&address)
	return address.Country
}

// Sentence generates a random sentence of filler text.
func Sentence() string {
	var text struct {
		Sentence string `faker:"sentence"`
	}
	_ = faker.FakeData(&text)
	return text.Sentence
}

// Paragraph generates a random paragraph of filler text.
func Paragraph() string {
	var text struct {
		Paragraph string `faker:"paragraph"`
	}
	_ = faker.FakeData(&text)
	return text.Paragraph
}

// UUID generates a random hyphenated UUID string.
func UUID() string {
	var id struct {
		UUID string `faker:"uuid_hyphenated"`
	}
	_ = faker.FakeData(&id)
	return id.UUID
}
