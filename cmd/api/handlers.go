package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tilestock/stock-service/internal/application"
	"github.com/tilestock/stock-service/internal/domain"
	"github.com/tilestock/stock-service/pkg/api"
	"github.com/tilestock/stock-service/pkg/errors"
	"github.com/tilestock/stock-service/pkg/logging"
	"github.com/tilestock/stock-service/pkg/middleware"
)

// callerFrom maps the verified token claims onto the identity the services expect
func callerFrom(c *gin.Context) (domain.Caller, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return domain.Caller{}, false
	}
	caller := domain.Caller{
		UserID: claims.UserID(),
		Role:   domain.Role(claims.Role),
		ShopID: claims.ShopID,
	}
	return caller, caller.Role.IsValid()
}

// withCaller resolves the caller or answers 401 before running handle
func withCaller(logger *logging.Logger, handle func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller)) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)
		caller, ok := callerFrom(c)
		if !ok {
			responder.RespondWithAppError(errors.ErrUnauthorized("unknown caller role"))
			return
		}
		handle(c, responder, caller)
	}
}

// parseDate accepts a calendar date or an RFC 3339 timestamp
func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type dateRange struct {
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
}

func (r dateRange) parse() (*time.Time, *time.Time, *errors.AppError) {
	start, err := parseDate(r.StartDate)
	if err != nil {
		return nil, nil, errors.ErrValidation("invalid date").WithDetail("startDate", "must be YYYY-MM-DD or RFC 3339")
	}
	end, err := parseDate(r.EndDate)
	if err != nil {
		return nil, nil, errors.ErrValidation("invalid date").WithDetail("endDate", "must be YYYY-MM-DD or RFC 3339")
	}
	return start, end, nil
}

// Tiles

type imageRequest struct {
	URL string `json:"url" binding:"required,url"`
}

func imageURLs(images []imageRequest) []string {
	if images == nil {
		return nil
	}
	urls := make([]string, len(images))
	for i, img := range images {
		urls[i] = img.URL
	}
	return urls
}

func createTileHandler(service *application.TileService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		var req struct {
			ShopID           string         `json:"shopId"`
			SKU              string         `json:"sku" binding:"omitempty,sku"`
			Name             string         `json:"name" binding:"required,max=200"`
			Price            int64          `json:"price" binding:"gte=0"`
			ItemsPerPacket   int            `json:"itemsPerPacket" binding:"gte=0"`
			Quantity         int            `json:"quantity" binding:"gte=0"`
			MinimumThreshold int            `json:"minimumThreshold" binding:"gte=0"`
			Images           []imageRequest `json:"images" binding:"omitempty,dive"`
		}
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		tile, err := service.CreateTile(c.Request.Context(), caller, application.CreateTileCommand{
			ShopID:           req.ShopID,
			SKU:              req.SKU,
			Name:             req.Name,
			Price:            req.Price,
			ItemsPerPacket:   req.ItemsPerPacket,
			Quantity:         req.Quantity,
			MinimumThreshold: req.MinimumThreshold,
			Images:           imageURLs(req.Images),
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusCreated, tile)
	})
}

func getTileHandler(service *application.TileService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		tile, err := service.GetTile(c.Request.Context(), caller, c.Param("id"))
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, tile)
	})
}

func listTilesHandler(service *application.TileService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		var req struct {
			ShopID          string `form:"shopId"`
			Search          string `form:"search"`
			IncludeInactive bool   `form:"includeInactive"`
		}
		if appErr := middleware.BindQuery(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}
		page := api.ParsePagination(c)

		tiles, err := service.ListTiles(c.Request.Context(), caller, application.ListTilesQuery{
			ShopID:          req.ShopID,
			Search:          req.Search,
			IncludeInactive: req.IncludeInactive,
			Page:            page.Page,
			Limit:           page.Limit,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, tiles)
	})
}

func updateTileHandler(service *application.TileService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		var req struct {
			Name             *string        `json:"name" binding:"omitempty,min=1,max=200"`
			Price            *int64         `json:"price" binding:"omitempty,gte=0"`
			ItemsPerPacket   *int           `json:"itemsPerPacket" binding:"omitempty,gte=1"`
			MinimumThreshold *int           `json:"minimumThreshold" binding:"omitempty,gte=0"`
			IsActive         *bool          `json:"isActive"`
			Images           []imageRequest `json:"images" binding:"omitempty,dive"`
		}
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		tile, err := service.UpdateTile(c.Request.Context(), caller, application.UpdateTileCommand{
			TileID:           c.Param("id"),
			Name:             req.Name,
			Price:            req.Price,
			ItemsPerPacket:   req.ItemsPerPacket,
			MinimumThreshold: req.MinimumThreshold,
			IsActive:         req.IsActive,
			Images:           imageURLs(req.Images),
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, tile)
	})
}

func deleteTileHandler(service *application.TileService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		if err := service.DeleteTile(c.Request.Context(), caller, c.Param("id")); err != nil {
			responder.RespondWithError(err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func lowStockHandler(service *application.TileService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		report, err := service.LowStock(c.Request.Context(), caller, c.Query("shopId"))
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

// Stock

type stockChangeRequest struct {
	Packets         int    `json:"packets"`
	Pieces          int    `json:"pieces"`
	ReferenceNumber string `json:"referenceNumber" binding:"max=100"`
	Notes           string `json:"notes" binding:"max=500"`
}

func addStockHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		var req struct {
			stockChangeRequest
			ItemsPerPacket *int `json:"itemsPerPacket"`
		}
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		movement, err := service.AddStock(c.Request.Context(), caller, application.AddStockCommand{
			TileID:            c.Param("id"),
			Packets:           req.Packets,
			Pieces:            req.Pieces,
			NewItemsPerPacket: req.ItemsPerPacket,
			ReferenceNumber:   req.ReferenceNumber,
			Notes:             req.Notes,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, movement)
	})
}

func removeStockHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		var req stockChangeRequest
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		movement, err := service.RemoveStock(c.Request.Context(), caller, application.RemoveStockCommand{
			TileID:          c.Param("id"),
			Packets:         req.Packets,
			Pieces:          req.Pieces,
			ReferenceNumber: req.ReferenceNumber,
			Notes:           req.Notes,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, movement)
	})
}

func setQuantityHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		var req struct {
			Quantity *int   `json:"quantity" binding:"required"`
			Notes    string `json:"notes" binding:"max=500"`
		}
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		movement, err := service.SetQuantity(c.Request.Context(), caller, application.SetQuantityCommand{
			TileID:   c.Param("id"),
			Quantity: *req.Quantity,
			Notes:    req.Notes,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, movement)
	})
}

// Sales

type customerRequest struct {
	Name    string `json:"name" binding:"required,max=200"`
	Phone   string `json:"phone" binding:"max=50"`
	Email   string `json:"email" binding:"omitempty,email"`
	Address string `json:"address" binding:"max=500"`
}

func (r customerRequest) input() application.CustomerInput {
	return application.CustomerInput{Name: r.Name, Phone: r.Phone, Email: r.Email, Address: r.Address}
}

func createSaleHandler(service *application.SaleService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		var req struct {
			ShopID   string          `json:"shopId"`
			Customer customerRequest `json:"customer"`
			Items    []struct {
				TileID    string `json:"tileId" binding:"required"`
				Quantity  int    `json:"quantity" binding:"required,gt=0"`
				UnitPrice int64  `json:"unitPrice" binding:"gte=0"`
			} `json:"items" binding:"required,min=1,dive"`
			Discount      int64  `json:"discount" binding:"gte=0"`
			Tax           int64  `json:"tax" binding:"gte=0"`
			PaymentMethod string `json:"paymentMethod" binding:"omitempty,payment_method"`
			PaymentStatus string `json:"paymentStatus" binding:"omitempty,payment_status"`
		}
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		items := make([]application.SaleItemInput, len(req.Items))
		for i, item := range req.Items {
			items[i] = application.SaleItemInput{TileID: item.TileID, Quantity: item.Quantity, UnitPrice: item.UnitPrice}
		}

		sale, err := service.CreateSale(c.Request.Context(), caller, application.CreateSaleCommand{
			ShopID:        req.ShopID,
			Customer:      req.Customer.input(),
			Items:         items,
			Discount:      req.Discount,
			Tax:           req.Tax,
			PaymentMethod: req.PaymentMethod,
			PaymentStatus: req.PaymentStatus,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusCreated, sale)
	})
}

func getSaleHandler(service *application.SaleService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		sale, err := service.GetSale(c.Request.Context(), caller, c.Param("id"))
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, sale)
	})
}

func listSalesHandler(service *application.SaleService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		var req struct {
			dateRange
			ShopID string `form:"shopId"`
			Status string `form:"status" binding:"omitempty,sale_status"`
		}
		if appErr := middleware.BindQuery(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}
		start, end, appErr := req.parse()
		if appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}
		page := api.ParsePagination(c)

		sales, err := service.ListSales(c.Request.Context(), caller, application.ListSalesQuery{
			ShopID:    req.ShopID,
			Status:    req.Status,
			StartDate: start,
			EndDate:   end,
			Page:      page.Page,
			Limit:     page.Limit,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, sales)
	})
}

func updateSaleHandler(service *application.SaleService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		var req struct {
			Status        *string          `json:"status" binding:"omitempty,sale_status"`
			Customer      *customerRequest `json:"customer"`
			Discount      *int64           `json:"discount" binding:"omitempty,gte=0"`
			Tax           *int64           `json:"tax" binding:"omitempty,gte=0"`
			PaymentMethod *string          `json:"paymentMethod" binding:"omitempty,payment_method"`
			PaymentStatus *string          `json:"paymentStatus" binding:"omitempty,payment_status"`
		}
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		cmd := application.UpdateSaleCommand{
			SaleID:        c.Param("id"),
			Status:        req.Status,
			Discount:      req.Discount,
			Tax:           req.Tax,
			PaymentMethod: req.PaymentMethod,
			PaymentStatus: req.PaymentStatus,
		}
		if req.Customer != nil {
			customer := req.Customer.input()
			cmd.Customer = &customer
		}

		sale, err := service.UpdateSale(c.Request.Context(), caller, cmd)
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, sale)
	})
}

func cancelSaleHandler(service *application.SaleService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		sale, err := service.CancelSale(c.Request.Context(), caller, c.Param("id"))
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, sale)
	})
}

func deliverSaleHandler(service *application.SaleService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		sale, err := service.DeliverSale(c.Request.Context(), caller, c.Param("id"))
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, sale)
	})
}

// Reports

type reportRequest struct {
	dateRange
	ShopID string `form:"shopId"`
	TileID string `form:"tileId"`
	Type   string `form:"type"`
}

func (r reportRequest) query(page api.PageRequest) (application.ReportQuery, *errors.AppError) {
	start, end, appErr := r.parse()
	if appErr != nil {
		return application.ReportQuery{}, appErr
	}
	return application.ReportQuery{
		ShopID:    r.ShopID,
		TileID:    r.TileID,
		StartDate: start,
		EndDate:   end,
		Type:      r.Type,
		Page:      page.Page,
		Limit:     page.Limit,
	}, nil
}

func bindReportQuery(c *gin.Context) (application.ReportQuery, *errors.AppError) {
	var req reportRequest
	if appErr := middleware.BindQuery(c, &req); appErr != nil {
		return application.ReportQuery{}, appErr
	}
	return req.query(api.ParsePagination(c))
}

func reportHandler(service *application.ReportService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		query, appErr := bindReportQuery(c)
		if appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		report, err := service.Query(c.Request.Context(), caller, query)
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

func clearReportHandler(service *application.ReportService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		query, appErr := bindReportQuery(c)
		if appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		result, err := service.ClearFiltered(c.Request.Context(), caller, query)
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

func deleteTransactionHandler(service *application.ReportService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		if err := service.DeleteTransaction(c.Request.Context(), caller, c.Param("id")); err != nil {
			responder.RespondWithError(err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

// Shops

func getShopHandler(service *application.ShopService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		shop, err := service.GetShop(c.Request.Context(), caller, c.Param("id"))
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, shop)
	})
}

func updateShopSettingsHandler(service *application.ShopService, logger *logging.Logger) gin.HandlerFunc {
	return withCaller(logger, func(c *gin.Context, responder *middleware.ErrorResponder, caller domain.Caller) {
		var req struct {
			LowStockThreshold *int `json:"lowStockThreshold" binding:"required,gte=0"`
		}
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		shop, err := service.UpdateSettings(c.Request.Context(), caller, application.UpdateShopSettingsCommand{
			ShopID:            c.Param("id"),
			LowStockThreshold: *req.LowStockThreshold,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, shop)
	})
}
