// Command seeder loads sample Swiss invoicing data for local development.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio-api/internal/billing"
	"github.com/facturio/facturio-api/internal/catalog"
	"github.com/facturio/facturio-api/internal/client"
	"github.com/facturio/facturio-api/internal/invoice"
	"github.com/facturio/facturio-api/internal/tva"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	products := seedProducts(ctx, pool)
	clients := seedClients(ctx, pool)
	seedInvoice(ctx, pool, products, clients)

	log.Println("seeding completed")
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool) []catalog.Product {
	store := catalog.NewStore(pool)
	percent := billing.DiscountPercent

	params := []catalog.ProductParams{
		{
			Name:        "Conseil horlogerie (heure)",
			Description: "Prestation de conseil, facturée à l'heure",
			UnitPrice:   decimal.RequireFromString("180.00"),
			VATCategory: tva.Standard,
		},
		{
			Name:           "Hébergement web (mois)",
			Description:    "Hébergement mutualisé, datacenter Genève",
			UnitPrice:      decimal.RequireFromString("29.90"),
			VATCategory:    tva.Standard,
			DiscountValue:  decPtr("10"),
			DiscountType:   &percent,
			DiscountActive: true,
		},
		{
			Name:        "Guide TVA (livre)",
			Description: "Ouvrage de référence, taux réduit",
			UnitPrice:   decimal.RequireFromString("49.00"),
			VATCategory: tva.Reduced,
		},
		{
			Name:        "Nuitée séminaire",
			Description: "Logement pour séminaire client, taux spécial",
			UnitPrice:   decimal.RequireFromString("220.00"),
			VATCategory: tva.Special,
		},
	}

	log.Println("seeding products...")
	out := make([]catalog.Product, 0, len(params))
	for _, p := range params {
		product, err := store.Create(ctx, p)
		if err != nil {
			log.Fatalf("seed product %q: %v", p.Name, err)
		}
		out = append(out, product)
	}
	return out
}

func seedClients(ctx context.Context, pool *pgxpool.Pool) []client.Client {
	store := client.NewStore(pool)

	params := []client.Params{
		{Name: "Atelier Dubois", Email: "compta@atelier-dubois.ch", Company: "Atelier Dubois Sàrl",
			Street: "Rue du Rhône 12", Zip: "1204", City: "Genève", Country: "CH"},
		{Name: "Müller Treuhand", Email: "info@mueller-treuhand.ch", Company: "Müller Treuhand AG",
			Street: "Bahnhofstrasse 3", Zip: "8001", City: "Zürich", Country: "CH"},
	}

	log.Println("seeding clients...")
	out := make([]client.Client, 0, len(params))
	for _, p := range params {
		c, err := store.Create(ctx, p)
		if err != nil {
			log.Fatalf("seed client %q: %v", p.Name, err)
		}
		out = append(out, c)
	}
	return out
}

func seedInvoice(ctx context.Context, pool *pgxpool.Pool, products []catalog.Product, clients []client.Client) {
	if len(products) < 2 || len(clients) == 0 {
		return
	}

	catalogSvc := &catalog.Service{Store: catalog.NewStore(pool)}
	svc := &invoice.Service{
		Store: invoice.NewStore(pool),
		Calc:  &billing.Calculator{Policies: catalogSvc},
		Log:   zerolog.Nop(),
	}

	standard, err := tva.Rate(tva.Standard)
	if err != nil {
		log.Fatalf("standard rate: %v", err)
	}

	consulting := products[0]
	hosting := products[1]
	lines := []billing.LineItem{
		{
			Description: consulting.Name,
			Quantity:    decimal.RequireFromString("8"),
			UnitPrice:   consulting.UnitPrice,
			VATRate:     standard,
			ProductID:   &consulting.ID,
		},
		{
			Description: hosting.Name,
			Quantity:    decimal.RequireFromString("12"),
			UnitPrice:   hosting.UnitPrice,
			VATRate:     standard,
			ProductID:   &hosting.ID,
		},
	}

	log.Println("seeding sample invoice...")
	inv, _, err := svc.Create(ctx, invoice.CreateInput{
		Number:   "F-2026-0001",
		ClientID: clients[0].ID,
		Kind:     invoice.KindInvoice,
		Lines:    lines,
	})
	if err != nil {
		log.Fatalf("seed invoice: %v", err)
	}
	log.Printf("invoice %s created: subtotal %s, TVA %s, total %s",
		inv.Number, inv.Subtotal.StringFixed(2), inv.TVAAmount.StringFixed(2), inv.Total.StringFixed(2))
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
